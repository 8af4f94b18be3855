//go:build mage

// Tools for building and testing UPush.
package main

import (
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Compiles the server and peer binaries into bin/.
func Build() error {
	for _, target := range []string{"server", "peer"} {
		if _, err := sh.Exec(nil, os.Stdout, os.Stderr, "go", "build", "-o", "bin/upush-"+target, "./"+target); err != nil {
			return err
		}
	}
	return nil
}

// Runs all tests.
// Tests are run with -race.
func Test() error {
	_, err := sh.Exec(nil, os.Stdout, os.Stderr, "go", "test", "./...", "-race", "-count=1")
	return err
}

// Vets, tests, then builds.
func All() {
	mg.SerialDeps(Vet, Test, Build)
}

// Runs go vet over the module.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}
