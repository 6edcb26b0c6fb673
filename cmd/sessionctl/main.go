// Command sessionctl drives a goSession client from the shell: it logs in,
// keeps the session in a durable store between invocations, and issues
// authenticated requests that renew the credential when the API rejects it.
package main

import "github.com/MrEthical07/goSession/cmd/sessionctl/cmd"

func main() {
	cmd.Execute()
}
