// Command crawlctl runs crawl jobs from the command line and inspects saved
// pages offline.
package main

func main() {
	Execute()
}
