package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/smarttransit/busticket-backend/internal/services"
	"github.com/smarttransit/busticket-backend/internal/utils"
)

func main() {
	adminPassword := flag.String("admin-password", "", "print a bcrypt hash for this admin password")
	randomAdmin := flag.Bool("random-admin", false, "generate an admin password and print it with its hash")
	cost := flag.Int("cost", 12, "bcrypt cost for the admin hash")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for SmartTransit Bus Tickets")
	fmt.Println("===========================================")
	fmt.Println()

	secrets, err := utils.GenerateDeploymentSecrets(*randomAdmin && *adminPassword == "")
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}
	if *adminPassword != "" {
		secrets.AdminPassword = *adminPassword
	}

	fmt.Println("Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secrets.JWTSecret)
	fmt.Printf("JWT_REFRESH_SECRET=%s\n", secrets.JWTRefreshSecret)

	if secrets.AdminPassword != "" {
		hash, err := services.HashPassword(secrets.AdminPassword, *cost)
		if err != nil {
			log.Fatalf("Failed to hash admin password: %v", err)
		}
		fmt.Printf("ADMIN_PASSWORD=%s\n", secrets.AdminPassword)
		fmt.Println()
		fmt.Println("Admin password hash (users.password_hash):")
		fmt.Println(hash)
	}

	fmt.Println()
	fmt.Println("IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
