//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	SERVER_BINARY = "../bin/chat-server"
	CLI_BINARY    = "../bin/chatctl"
	SERVER_PATH   = "../cmd/server"
	CLI_PATH      = "../cmd/chatctl"
	DOCKER_FILE   = "../docker-compose.yml"
)

// Build compiles the server and the CLI.
func Build() error {
	fmt.Println("🔨 Building server and chatctl...")
	if err := sh.RunV("go", "build", "-o", SERVER_BINARY, SERVER_PATH); err != nil {
		return err
	}
	return sh.RunV("go", "build", "-o", CLI_BINARY, CLI_PATH)
}

// Vet runs go vet over the module.
func Vet() error {
	fmt.Println("🔍 Vetting...")
	return sh.RunV("go", "vet", "../...")
}

// Test runs the unit tests with the race detector.
func Test() error {
	fmt.Println("🧪 Running tests...")
	return sh.RunV("go", "test", "-race", "-count=1", "../...")
}

// Run builds and starts the server with the local .env.
func Run() error {
	mg.Deps(Build)
	fmt.Println("🚀 Starting server...")
	return sh.RunV(SERVER_BINARY)
}

// DockerUp starts Postgres for the postgres store driver.
func DockerUp() error {
	fmt.Println("🐘 Starting Postgres container...")
	return sh.RunV("docker-compose", "-f", DOCKER_FILE, "up", "-d")
}

// DockerDown stops and removes the Postgres container.
func DockerDown() error {
	fmt.Println("🛑 Stopping Postgres container...")
	return sh.RunV("docker-compose", "-f", DOCKER_FILE, "down")
}

// Clean removes build output.
func Clean() {
	fmt.Println("🧹 Cleaning up...")
	os.RemoveAll("../bin")
}
