package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Exercises the HTTP API against a running server: registers one door and one
// air sensor, posts a reading for each and prints the latest state.

const baseURL = "http://localhost:8080"

func post(path string, body any) {
	payload, _ := json.Marshal(body)
	fmt.Println("POST", path, string(payload))
	resp, err := http.Post(baseURL+path, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Println("  status:", resp.Status, string(out))
}

func get(path string) {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		panic(err)
	}
	pretty, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println("GET", path, resp.Status)
	fmt.Println(string(pretty))
}

func main() {
	now := time.Now().UTC().Format("2006-01-02T15:04:05Z")

	post("/doors/register", map[string]any{"device_name": "front_door"})
	post("/air/register", map[string]any{"device_name": "kitchen"})

	post("/doors/add_data/door_status", map[string]any{
		"device_name": "front_door",
		"timestamp":   now,
		"door_status": "OPEN",
		"battery":     98.5,
	})
	post("/air/add_data", map[string]any{
		"device_name": "kitchen",
		"timestamp":   now,
		"pm25":        10.5,
		"pm10":        20.5,
	})

	get("/doors/info/latest?device_name=front_door")
	get("/air/info/latest?device_name=kitchen")
	get("/doors/current_state")
}
