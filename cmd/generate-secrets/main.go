package main

import (
	"fmt"
	"log"

	"github.com/smarttransit/booking-engine/internal/utils"
)

// secretNames are the signing keys the engine reads at startup
var secretNames = []string{
	"JWT_SECRET",
	"MOBILE_MONEY_WEBHOOK_SECRET",
}

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for the SmartTransit booking engine")
	fmt.Println("===========================================")
	fmt.Println()

	secrets, err := utils.GenerateSecrets(secretNames...)
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	for _, name := range secretNames {
		fmt.Printf("%s=%s\n", name, secrets[name])
	}
	fmt.Println()
	fmt.Println("STRIPE_WEBHOOK_SECRET comes from the Stripe dashboard and is not generated here.")
	fmt.Println("Keep these secrets out of version control.")
	fmt.Println("===========================================")
}
