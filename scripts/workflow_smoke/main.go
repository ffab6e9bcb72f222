// Command workflow_smoke drives one lesson plan through the full
// review workflow against a running instance and reports each step.
// It needs three seeded accounts (teacher, analyst, coordinator) and a
// small PDF to upload.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type stepResult struct {
	Name     string
	Status   int
	Duration time.Duration
	Err      error
}

type client struct {
	base string
	http *http.Client
}

func main() {
	var (
		base            string
		teacherEmail    string
		analystEmail    string
		coordEmail      string
		password        string
		classID         string
		periodID        string
		filePath        string
		timeout         time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api/v1", "API base URL")
	flag.StringVar(&teacherEmail, "teacher", "teacher@example.com", "Teacher account email")
	flag.StringVar(&analystEmail, "analyst", "analyst@example.com", "Analyst account email")
	flag.StringVar(&coordEmail, "coordinator", "coordinator@example.com", "Coordinator account email")
	flag.StringVar(&password, "password", "password", "Shared account password")
	flag.StringVar(&classID, "class", "", "Class ID to plan for")
	flag.StringVar(&periodID, "period", "", "Period ID to plan in")
	flag.StringVar(&filePath, "file", "", "Document to upload (PDF)")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "HTTP client timeout")
	flag.Parse()

	if classID == "" || periodID == "" {
		log.Fatal("-class and -period are required")
	}

	c := &client{base: base, http: &http.Client{Timeout: timeout}}

	teacherTok := mustLogin(c, teacherEmail, password)
	analystTok := mustLogin(c, analystEmail, password)
	coordTok := mustLogin(c, coordEmail, password)

	var results []stepResult
	var planID string

	results = append(results, step("open plan", func() (int, error) {
		status, body, err := c.postJSON("/plans/open", teacherTok, map[string]string{
			"classId": classID, "periodId": periodID,
		})
		if err == nil {
			planID = extractID(body)
		}
		return status, err
	}))
	if planID == "" {
		report(results)
		log.Fatal("could not open a plan, aborting")
	}

	if filePath != "" {
		results = append(results, step("upload document", func() (int, error) {
			return c.upload(fmt.Sprintf("/plans/%s/documents", planID), teacherTok, filePath)
		}))
	}

	results = append(results,
		step("submit", c.command(planID, "submit", teacherTok, nil)),
		step("start analysis", c.command(planID, "start-analysis", analystTok, nil)),
		step("approve as analyst", c.command(planID, "approve-analyst", analystTok, nil)),
		step("approve as coordinator", c.command(planID, "approve-coordinator", coordTok, nil)),
		step("fetch history", func() (int, error) {
			status, _, err := c.get(fmt.Sprintf("/plans/%s/history", planID), teacherTok)
			return status, err
		}),
	)

	failed := report(results)
	if failed > 0 {
		os.Exit(1)
	}
}

func step(name string, fn func() (int, error)) stepResult {
	start := time.Now()
	status, err := fn()
	return stepResult{Name: name, Status: status, Duration: time.Since(start), Err: err}
}

func report(results []stepResult) int {
	failed := 0
	fmt.Println("STEP                        STATUS  DURATION")
	for _, r := range results {
		mark := "ok"
		if r.Err != nil || r.Status >= 400 {
			mark = "FAIL"
			failed++
		}
		fmt.Printf("%-26s  %6d  %8s  %s", r.Name, r.Status, r.Duration.Round(time.Millisecond), mark)
		if r.Err != nil {
			fmt.Printf("  (%v)", r.Err)
		}
		fmt.Println()
	}
	fmt.Printf("Failed steps: %d\n", failed)
	return failed
}

func mustLogin(c *client, email, password string) string {
	status, body, err := c.postJSON("/auth/login", "", credentials{Email: email, Password: password})
	if err != nil || status != http.StatusOK {
		log.Fatalf("login failed for %s: status=%d err=%v", email, status, err)
	}
	var envelope struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Data.AccessToken == "" {
		log.Fatalf("login response for %s missing access token", email)
	}
	return envelope.Data.AccessToken
}

func (c *client) command(planID, action, token string, payload interface{}) func() (int, error) {
	return func() (int, error) {
		status, _, err := c.postJSON(fmt.Sprintf("/plans/%s/%s", planID, action), token, payload)
		return status, err
	}
}

func (c *client) postJSON(path, token string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req)
}

func (c *client) get(path, token string) (int, []byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.do(req)
}

func (c *client) upload(path, token, filePath string) (int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer file.Close() //nolint:errcheck

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", file.Name())
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, c.base+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	status, _, err := c.do(req)
	return status, err
}

func (c *client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func extractID(body []byte) string {
	var envelope struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Data.ID
}
