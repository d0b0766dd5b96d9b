package main

import (
	"rentalhub/internal/chatctl"
)

func main() {
	chatctl.Execute()
}
