package objectrpc

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
)

// The envelopes travel as google.protobuf.Struct holding the same JSON
// layout the HTTP transport uses, so no generated stubs are needed.

func callToStruct(call remote.Call) (*structpb.Struct, error) {
	data, err := remote.MarshalCall(call)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrEncode, err)
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrEncode, err)
	}
	return s, nil
}

func structToCall(s *structpb.Struct) (remote.Call, error) {
	data, err := s.MarshalJSON()
	if err != nil {
		return remote.Call{}, err
	}
	return remote.UnmarshalCall(data)
}

func replyToStruct(reply remote.Reply) (*structpb.Struct, error) {
	data, err := remote.MarshalReply(reply)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return s, nil
}

func structToReply(s *structpb.Struct) (remote.Reply, error) {
	data, err := s.MarshalJSON()
	if err != nil {
		return remote.Reply{}, fmt.Errorf("%w: %v", remote.ErrDecode, err)
	}
	return remote.UnmarshalReply(data)
}
