/*
Package client provides a Go client for the stint HTTP API.

The client wraps the daemon's REST surface with typed methods and
decodes responses into the api package's view structs. The stint CLI
is its primary consumer; reward systems embedding stint can use it
directly.

# Usage

	cli := client.NewClient("127.0.0.1:7420")

	entity, err := cli.Enroll("tablet-kid-a")
	if err != nil {
		return err
	}

	total, err := cli.Total(entity.ID)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %ds today\n", total.Name, total.TotalSeconds)

Entity-scoped calls accept the entity ID or its name. Every call
carries a ten second timeout; there is no retry logic, callers decide
what a failed read means for them.

# Errors

API errors arrive as {"error": "..."} bodies and surface as plain Go
errors prefixed with the HTTP status, for example:

	409 Conflict: tablet-kid-a: entity already enrolled

Transport failures (daemon not running, wrong address) wrap the
underlying net error.

# See Also

  - pkg/api for the server side and the shared view structs
  - cmd/stint for CLI usage
*/
package client
