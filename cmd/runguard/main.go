// Runguard - runtime guard decision layer
// Decide. Record. Get out of the way.
package main

func main() {
	Execute()
}
