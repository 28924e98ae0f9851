/*
Package resilience provides a circuit breaker for calls to external
services, so a failing planner cannot back up the execution path.

# Usage

	breaker := resilience.New("planner", resilience.Settings{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	})

	err := breaker.Do(func() error {
		return client.Call()
	})

Do returns ErrCircuitOpen without invoking the function while the breaker
refuses requests.

# States

  - Closed: normal operation, calls pass through
  - Open: the threshold of consecutive failures was hit, calls fail
    immediately until the cooldown elapses
  - Half-Open: a single probe call is admitted; success closes the
    breaker, failure reopens it

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[success]-> Closed
	                                              |
	                                          [failure]
	                                              |
	                                              v
	                                            Open
*/
package resilience
