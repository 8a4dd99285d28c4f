// The main package for the indexer executable.
package main

import "github.com/avncodex/indexer/cmd"

func main() {
	cmd.Execute()
}
