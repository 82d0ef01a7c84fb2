// mockd-chaos CLI - resilience and chaos-injection gateway for mock servers
package main

import "github.com/getmockd/mockd-chaos/pkg/cli"

func main() {
	cli.Execute()
}
