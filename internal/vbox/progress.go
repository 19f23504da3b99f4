package vbox

import (
	"context"
	"time"

	"github.com/GriffinCanCode/vboxremote/internal/remote"
	"github.com/GriffinCanCode/vboxremote/internal/remote/progress"
)

// Progress tracks a long running server operation.
type Progress struct{ proxy }

func wrapProgress(p proxy) *Progress { return &Progress{p} }

// NewProgress wraps a progress reference received out of band, e.g. from
// a UI client.
func NewProgress(inv Invoker, ref remote.Ref) *Progress {
	return &Progress{proxy{inv: inv, ref: ref}}
}

func (p *Progress) ID(ctx context.Context) (string, error) {
	return get[string](ctx, p.proxy, "getId")
}

func (p *Progress) Description(ctx context.Context) (string, error) {
	return get[string](ctx, p.proxy, "getDescription")
}

// Completed rereads the completion flag from the server.
func (p *Progress) Completed(ctx context.Context) (bool, error) {
	p.Refresh("getCompleted")
	return get[bool](ctx, p.proxy, "getCompleted")
}

// Percent rereads the overall percentage from the server.
func (p *Progress) Percent(ctx context.Context) (uint32, error) {
	p.Refresh("getPercent")
	return get[uint32](ctx, p.proxy, "getPercent")
}

func (p *Progress) ResultCode(ctx context.Context) (int32, error) {
	return get[int32](ctx, p.proxy, "getResultCode")
}

// ErrorInfo returns the failure details of a failed operation, or nil.
func (p *Progress) ErrorInfo(ctx context.Context) (*ErrorInfo, error) {
	return getRef(ctx, p.proxy, "getErrorInfo", wrapErrorInfo)
}

func (p *Progress) Cancel(ctx context.Context) error {
	return call(ctx, p.proxy, "cancel")
}

// WaitForCompletion blocks on the server; a negative timeout waits forever.
func (p *Progress) WaitForCompletion(ctx context.Context, timeout time.Duration) error {
	ms := int32(-1)
	if timeout >= 0 {
		ms = int32(timeout / time.Millisecond)
	}
	return call(ctx, p.proxy, "waitForCompletion", ms)
}

// Watch polls the operation on a new poller and streams its updates.
func (p *Progress) Watch(ctx context.Context, opts ...progress.Option) <-chan progress.Update {
	return progress.NewPoller(p.inv, opts...).Start(ctx, p.ref)
}

// Wait polls the operation to its end.
func (p *Progress) Wait(ctx context.Context, opts ...progress.Option) (progress.Outcome, error) {
	return progress.NewPoller(p.inv, opts...).Run(ctx, p.ref, nil)
}

// ErrorInfo describes a server side failure.
type ErrorInfo struct{ proxy }

func wrapErrorInfo(p proxy) *ErrorInfo { return &ErrorInfo{p} }

func (e *ErrorInfo) ResultCode(ctx context.Context) (int32, error) {
	return get[int32](ctx, e.proxy, "getResultCode")
}

func (e *ErrorInfo) Text(ctx context.Context) (string, error) {
	return get[string](ctx, e.proxy, "getText")
}

func (e *ErrorInfo) Component(ctx context.Context) (string, error) {
	return get[string](ctx, e.proxy, "getComponent")
}

// Next returns the next error in the chain, or nil.
func (e *ErrorInfo) Next(ctx context.Context) (*ErrorInfo, error) {
	return getRef(ctx, e.proxy, "getNext", wrapErrorInfo)
}
