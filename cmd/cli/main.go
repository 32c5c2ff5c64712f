package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	scenarios   []scenario
	selectedScn int
	status      string
	lastOrderID string
	busy        bool
}

func initialModel() model {
	return model{
		scenarios: []scenario{
			{"create", "Place a new order"},
			{"flow", "Place an order and poll until reconciled"},
			{"get", "Fetch the last placed order"},
		},
		status: "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedScn > 0 {
				m.selectedScn--
			}
		case "down":
			if m.selectedScn < len(m.scenarios)-1 {
				m.selectedScn++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selectedScn].Name, m.lastOrderID)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		if msg.orderID != "" {
			m.lastOrderID = msg.orderID
		}
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "order-outbox-lab CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selectedScn {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.lastOrderID != "" {
		fmt.Fprintf(b, "Last order: %s\n", m.lastOrderID)
	}
	fmt.Fprintln(b, "\nControls: up/down select scenario, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	orderID string
}

func runScenarioCmd(scn, lastOrderID string) tea.Cmd {
	return func() tea.Msg {
		baseURL := getenv("ORDER_BASE_URL", "http://localhost:8080")
		switch scn {
		case "get":
			if lastOrderID == "" {
				return scenarioResult{status: "No order placed yet"}
			}
			body, err := getOrder(baseURL, lastOrderID)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Get failed: %v", err)}
			}
			return scenarioResult{status: "Order: " + body}
		case "flow":
			orderID, err := createOrder(baseURL)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Create failed: %v", err)}
			}
			status, err := pollUntilTerminal(baseURL, orderID, 30*time.Second)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Order %s: %v", orderID, err), orderID: orderID}
			}
			return scenarioResult{status: fmt.Sprintf("Order %s reconciled: %s", orderID, status), orderID: orderID}
		default:
			orderID, err := createOrder(baseURL)
			if err != nil {
				return scenarioResult{status: fmt.Sprintf("Create failed: %v", err)}
			}
			return scenarioResult{status: "Created " + orderID + " (PENDING)", orderID: orderID}
		}
	}
}

func createOrder(baseURL string) (string, error) {
	payload := map[string]any{
		"customerId": uuid.NewString(),
		"items": []map[string]any{
			{"productId": getenv("CLI_PRODUCT_ID", "sku-1"), "quantity": 1, "unitPrice": 9.99},
		},
		"shippingAddress": map[string]any{
			"street": "Av. Principal 123", "city": "Quito", "state": "Pichincha",
			"zipCode": "170150", "country": "EC",
		},
		"paymentReference": "ref-" + uuid.NewString()[:8],
	}
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/orders", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.OrderID, nil
}

func getOrder(baseURL, orderID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/orders/"+orderID, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}

func pollUntilTerminal(baseURL, orderID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		body, err := getOrder(baseURL, orderID)
		if err != nil {
			return "", err
		}
		var out struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal([]byte(body), &out); err != nil {
			return "", err
		}
		if out.Status == "CONFIRMED" || out.Status == "CANCELLED" {
			return out.Status, nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return "", fmt.Errorf("still PENDING after %s", timeout)
}

func main() {
	runCmd := flag.String("run", "", "run scenario without the TUI: create|flow|get")
	orderID := flag.String("order", "", "order id for -run get")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd, *orderID)().(scenarioResult)
		fmt.Println(res.status)
		return
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
