package main

import "github.com/joho/godotenv"

func main() {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()
	Execute()
}
