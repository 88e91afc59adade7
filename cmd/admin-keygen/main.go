// Command admin-keygen prints the bcrypt hash of an admin API key for the
// ADMIN_API_KEY_HASH environment variable.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/inboundr/art-framer-sub005/utils"
)

func main() {
	key := flag.String("key", "", "admin API key to hash")
	flag.Parse()

	if *key == "" {
		log.Fatal("usage: admin-keygen -key <admin api key>")
	}
	if len(*key) < 16 {
		log.Fatal("admin key must be at least 16 characters")
	}

	hash, err := utils.HashAdminKey(*key)
	if err != nil {
		log.Fatalf("hashing admin key: %v", err)
	}
	fmt.Println(string(hash))
}
