package main

import (
	"github.com/metrics-bridge/cmd/agent"
)

func main() {
	agent.Execute()
}
