// Command ubus talks to the local bus broker: it lists objects, calls
// methods, polls a method for monitoring and exports the object table to
// etcd.
package main

func main() {
	Execute()
}
