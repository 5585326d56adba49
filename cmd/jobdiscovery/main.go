package main

import "github.com/JakeFAU/jobdiscovery/cmd"

func main() {
	cmd.Execute()
}
