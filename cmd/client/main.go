// Package main provides a CLI client for the session registry server.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")

	joinCmd := flag.NewFlagSet("join", flag.ExitOnError)
	joinID := joinCmd.Uint64("id", 0, "Session ID")
	joinName := joinCmd.String("name", "", "Session name")

	leaveCmd := flag.NewFlagSet("leave", flag.ExitOnError)
	leaveID := leaveCmd.Uint64("id", 0, "Session ID")

	lookupCmd := flag.NewFlagSet("lookup", flag.ExitOnError)
	lookupID := lookupCmd.Uint64("id", 0, "Session ID")

	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	flag.Parse()

	switch os.Args[1] {
	case "join":
		joinCmd.Parse(os.Args[2:])
		joinSession(*serverURL, *joinID, *joinName)

	case "leave":
		leaveCmd.Parse(os.Args[2:])
		leaveSession(*serverURL, *leaveID)

	case "lookup":
		lookupCmd.Parse(os.Args[2:])
		lookupSession(*serverURL, *lookupID)

	case "stats":
		statsCmd.Parse(os.Args[2:])
		getStats(*serverURL)

	case "demo":
		runDemo(*serverURL)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Session Registry Client

Usage:
  client <command> [options]

Commands:
  join      Join a new session
  leave     Leave an existing session
  lookup    Look up a session by id
  stats     View registry statistics
  demo      Run a demonstration

Examples:
  client join -id 1 -name alice
  client leave -id 1
  client lookup -id 1
  client stats
  client demo`)
}

func joinSession(serverURL string, id uint64, name string) {
	req := map[string]interface{}{"id": id, "name": name}

	resp, err := postJSON(serverURL+"/join", req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Join Response:\n")
	printJSON(resp)
}

func leaveSession(serverURL string, id uint64) {
	url := fmt.Sprintf("%s/leave?id=%d", serverURL, id)

	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Leave Response:\n")
	printJSONBytes(body)
}

func lookupSession(serverURL string, id uint64) {
	url := fmt.Sprintf("%s/lookup?id=%d", serverURL, id)

	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Session:\n")
	printJSONBytes(body)
}

func getStats(serverURL string) {
	resp, err := http.Get(serverURL + "/stats")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Registry Statistics:\n")
	printJSONBytes(body)
}

func runDemo(serverURL string) {
	fmt.Println("=== Session Registry Demo ===")

	fmt.Println("1. Initial stats (empty):")
	getStats(serverURL)

	fmt.Println("\n2. Three sessions join:")
	joinSession(serverURL, 1, "alice")
	joinSession(serverURL, 2, "bob")
	joinSession(serverURL, 3, "carol")

	fmt.Println("\n3. Stats with active sessions:")
	getStats(serverURL)

	fmt.Println("\n4. Look up session 2:")
	lookupSession(serverURL, 2)

	fmt.Println("\n5. Session 2 leaves:")
	leaveSession(serverURL, 2)

	fmt.Println("\n6. Look up session 2 again (should 404):")
	lookupSession(serverURL, 2)

	fmt.Println("\n7. Final stats:")
	getStats(serverURL)

	fmt.Println("\n=== Demo Complete ===")
}

func postJSON(url string, data interface{}) (map[string]interface{}, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	err = json.Unmarshal(body, &result)
	return result, err
}

func printJSON(data interface{}) {
	jsonBytes, _ := json.MarshalIndent(data, "", "  ")
	fmt.Println(string(jsonBytes))
}

func printJSONBytes(data []byte) {
	var obj interface{}
	json.Unmarshal(data, &obj)
	printJSON(obj)
}
