// Package main is the entry point for netbill.
package main

func main() {
	Execute()
}
