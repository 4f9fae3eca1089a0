// Package main provides the stealthfetch command.
package main

func main() {
	Execute()
}
