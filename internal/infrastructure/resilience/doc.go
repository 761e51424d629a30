/*
Package resilience provides the circuit breaker used for outbound fetches
and remote kernel transports.

A breaker is Closed until Trip says otherwise, Open for Cooldown, then
HalfOpen where up to Probes calls decide whether it closes or reopens:

	Closed --[trip]--> Open --[cooldown]--> HalfOpen --[probes ok]--> Closed
	                     ^                      |
	                     +------[failure]-------+

Use Do for calls that return a value:

	resp, err := resilience.Do(breaker, func() (*resty.Response, error) {
		return req.Send()
	})
*/
package resilience
