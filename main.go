package main

import "studyline/internal/app"

func main() {
	app.Run()
}
