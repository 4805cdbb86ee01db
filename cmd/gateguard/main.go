// GateGuard is an HTTP gateway that puts per-client, per-category admission
// control in front of upstream services.
//
// Usage:
//
//	# Start the gateway
//	gateguard serve --config config.yaml
//
//	# Print the effective policy catalog
//	gateguard policies --config config.yaml
//
//	# Show the window key a client would be counted under
//	gateguard key --category login --addr 203.0.113.7 --agent "curl/8.5.0"
package main

func main() {
	Execute()
}
