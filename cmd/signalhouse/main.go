// Command signalhouse runs the event analytics service: the query API, the
// subscriptions scheduler and the subscriptions executor.
package main

import "os"

func main() {
	os.Exit(Execute())
}
