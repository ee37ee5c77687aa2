package frontend

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/jurijkreutz/determined/frontend/client"
	"github.com/jurijkreutz/determined/frontend/cmd"
)

func RunFrontend() {
	// Load the .env file
	err := godotenv.Load("frontend/.env")
	if err != nil {
		fmt.Println("Error loading .env file")
	}

	// Read the environment variables
	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	// Wire the API client, then hand over to the shell
	client.InitAPIClient(serverURL)
	cmd.InitTrackerCmd()
	cmd.Execute()
}
