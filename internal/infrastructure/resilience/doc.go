/*
Package resilience guards remote transports with a circuit breaker and a
client-side rate limit.

# Breaker

The breaker has three states:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open

Settings.IsSuccessful decides which errors count as failures. For remote
transports use TransportSuccess: faults and cancellations leave the breaker
alone.

# Usage

	breaker := resilience.New("vbox", resilience.Settings{
		Timeout:      10 * time.Second,
		ReadyToTrip:  resilience.ConsecutiveFailures(5),
		IsSuccessful: resilience.TransportSuccess,
	})
	transport = resilience.Guard(transport, breaker,
		resilience.WithLimiter(rate.NewLimiter(100, 200)))
*/
package resilience
