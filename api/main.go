package main

import (
	"github.com/joho/godotenv"

	"github.com/Nikh-on-Linux/zero-tunnel/api/cmd/zerotunnel"
)

func main() {
	_ = godotenv.Load()
	zerotunnel.Execute()
}
