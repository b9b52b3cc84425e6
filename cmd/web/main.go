package main

import "billing_backend/internal/app"

func main() {
	app.Run()
}
