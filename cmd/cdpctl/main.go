// cdpctl is the command-line client for cdpd.
package main

func main() {
	execute()
}
