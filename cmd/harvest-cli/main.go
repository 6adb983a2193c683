package main

import "coursesync-backend/cmd/harvest-cli/cmd"

func main() {
	cmd.Execute()
}
