// Command vboxctl talks to a VirtualBox web service through the remote
// object layer, and runs the bridge and the sandbox server.
//
// Connection settings come from the environment (VBOX_ENDPOINT,
// VBOX_TRANSPORT, VBOX_USER, VBOX_PASSWORD, REDIS_ADDR, ...) and can be
// overridden with the persistent flags.
//
// Usage:
//
//	# in-memory server with events published to Redis
//	vboxctl sandbox --redis localhost:6379
//
//	# list machines, start one and follow the progress
//	vboxctl machines
//	vboxctl start ubuntu-server
//
//	# start in the background, follow from another process
//	read sess prog < <(vboxctl --redis localhost:6379 start alpine-edge --no-wait)
//	vboxctl --redis localhost:6379 watch "$sess" "$prog"
//
//	# snapshot a machine, then restore it from another process
//	key=$(vboxctl --redis localhost:6379 freeze ubuntu-server --store)
//	vboxctl --redis localhost:6379 thaw --key "$key"
//
//	# bridge for UI clients on :8000
//	vboxctl bridge
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
