package main

import (
	_ "gpufleet/internal/command/create"
	_ "gpufleet/internal/command/delete"
	"gpufleet/internal/command/root"
	_ "gpufleet/internal/command/ssh"
	_ "gpufleet/internal/command/start"
	_ "gpufleet/internal/command/status"
	_ "gpufleet/internal/command/stop"
)

func main() {
	root.Execute()
}
