// This program performs administrative tasks for a hybrid chain node.
package main

import (
	"github.com/ardanlabs/hybridchain/app/tooling/admin/commands"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {
	commands.Execute(build)
}
