// Package main runs a smoke test against a running patient-sheets API.
//
// It checks health, session state and the spreadsheet listing, and with
// --write it adds and deletes a synthetic patient in the selected
// spreadsheet.
//
// Usage:
//
//	go run ./scripts/smoke --api=http://localhost:8080 [--secret=SECRET] [--container=ID] [--write]
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	flagAPI       string
	flagSecret    string
	flagContainer string
	flagWrite     bool
	token         string
	client        = &http.Client{Timeout: 30 * time.Second}
)

func init() {
	flag.StringVar(&flagAPI, "api", "http://localhost:8080", "API base URL")
	flag.StringVar(&flagSecret, "secret", "", "staff JWT secret (or AUTH_JWT_SECRET env)")
	flag.StringVar(&flagContainer, "container", "", "spreadsheet id to select before patient checks")
	flag.BoolVar(&flagWrite, "write", false, "add and delete a synthetic patient")
}

func staffToken(secret string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "smoke-test",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func call(method, path string, body any, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, flagAPI+path, rdr)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if out != nil && len(data) > 0 && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, truncate(string(data), 200))
	}
	return resp.StatusCode, nil
}

type step struct {
	name string
	run  func() error
}

func main() {
	flag.Parse()
	if flagSecret == "" {
		flagSecret = os.Getenv("AUTH_JWT_SECRET")
	}
	if flagSecret != "" {
		var err error
		if token, err = staffToken(flagSecret); err != nil {
			fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
			os.Exit(2)
		}
	}

	patientID := "SMOKE-" + uuid.NewString()[:8]
	steps := []step{
		{"health", func() error {
			_, err := call(http.MethodGet, "/health", nil, nil)
			return err
		}},
		{"session", func() error {
			var st struct {
				State    string `json:"state"`
				SignedIn bool   `json:"signed_in"`
			}
			if _, err := call(http.MethodPost, "/api/session/init", nil, &st); err != nil {
				return err
			}
			if !st.SignedIn {
				return fmt.Errorf("session is %s but not signed in; sign in through /api/session/signin first", st.State)
			}
			return nil
		}},
		{"containers", func() error {
			var list struct {
				Containers []struct {
					ID string `json:"id"`
				} `json:"containers"`
			}
			if _, err := call(http.MethodGet, "/api/containers", nil, &list); err != nil {
				return err
			}
			fmt.Printf("    %d spreadsheets visible\n", len(list.Containers))
			return nil
		}},
	}
	if flagContainer != "" {
		steps = append(steps, step{"select", func() error {
			_, err := call(http.MethodPut, "/api/selection", map[string]string{"container_id": flagContainer}, nil)
			return err
		}})
	}
	steps = append(steps, step{"list patients", func() error {
		_, err := call(http.MethodGet, "/api/patients", nil, nil)
		return err
	}})
	if flagWrite {
		steps = append(steps,
			step{"add patient", func() error {
				_, err := call(http.MethodPost, "/api/patients", map[string]string{
					"patient_id":      patientID,
					"name":            "Smoke Test",
					"age":             "1",
					"gender":          "Other",
					"phone":           "000-0000",
					"location":        "Test",
					"prescription":    "None",
					"dose":            "0",
					"visit_date":      time.Now().Format("2006-01-02"),
					"physician_name":  "Smoke",
					"physician_id":    "SMOKE",
					"physician_phone": "000-0000",
					"bill":            "0",
				}, nil)
				return err
			}},
			step{"delete patient", func() error {
				_, err := call(http.MethodDelete, "/api/patients/"+patientID, nil, nil)
				return err
			}},
		)
	}

	failed := 0
	for _, s := range steps {
		if err := s.run(); err != nil {
			failed++
			fmt.Printf("FAIL  %s: %v\n", s.name, err)
			break
		}
		fmt.Printf("ok    %s\n", s.name)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
