// Command pageaudit runs the web page performance audit service.
package main

import "github.com/speedindex/pageaudit/cmd"

func main() {
	cmd.Execute()
}
