package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result records one HTTP outcome for aggregation.
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	productID := flag.Int("product", 1, "product id")
	locationID := flag.Int("location", 1, "location id")
	preloadQty := flag.Int("preload", 0, "stock to add via adjust before the test (0 = skip)")
	unitCost := flag.String("unit-cost", "10.00", "unit cost used for the preload purchase")

	// Oversell test: nCarts distinct carts race for the same product.
	nCarts := flag.Int("carts", 200, "distinct carts")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	if *preloadQty > 0 {
		err := doPOST(client, fmt.Sprintf("%s/api/stock/adjust", *baseURL), map[string]any{
			"product_id":     *productID,
			"location_id":    *locationID,
			"quantity_delta": *preloadQty,
			"unit_cost":      *unitCost,
		})
		if err != nil {
			panic(fmt.Sprintf("preload adjust failed: %v", err))
		}
		fmt.Println("preload ok")
	}

	fmt.Printf("start oversell test: product=%d carts=%d concurrency=%d\n", *productID, *nCarts, *concurrency)
	results := runReserve(client, *baseURL, *productID, *locationID, *nCarts, *concurrency)
	printSummary("oversell", results)

	avail, err := getAvailability(client, *baseURL, *productID, *locationID)
	if err != nil {
		fmt.Println("availability check err:", err)
	} else {
		fmt.Println("final availability:", avail)
		if avail < 0 {
			fmt.Println("OVERSELL DETECTED: availability went negative")
		}
	}
}

func runReserve(client *http.Client, baseURL string, productID, locationID, nCarts, concurrency int) []Result {
	type Req struct {
		CartID     string `json:"cart_id"`
		LocationID int    `json:"location_id"`
		ProductID  int    `json:"product_id"`
		Delta      int64  `json:"delta"`
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, nCarts)

	for i := 0; i < nCarts; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			req := Req{
				CartID:     uuid.New().String(),
				LocationID: locationID,
				ProductID:  productID,
				Delta:      1,
			}
			results[idx] = reserveOnce(client, baseURL, req)
		}(i)
	}

	wg.Wait()
	return results
}

func reserveOnce(client *http.Client, baseURL string, req any) Result {
	b, _ := json.Marshal(req)
	url := fmt.Sprintf("%s/api/cart/reserve", baseURL)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(body)}
}

// printSummary aggregates the status code distribution. With stock N and more
// carts than stock, expect exactly N 200s and the rest 409.
func printSummary(name string, results []Result) {
	count := map[int]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range []int{200, 400, 404, 409, 429, 500} {
		if count[code] > 0 {
			fmt.Printf("  %d -> %d\n", code, count[code])
		}
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func doPOST(client *http.Client, url string, body any) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// getAvailability reads the server-computed availability after the storm.
func getAvailability(client *http.Client, baseURL string, productID, locationID int) (int64, error) {
	url := fmt.Sprintf("%s/api/stock/availability?location_id=%d&product_ids=%d", baseURL, locationID, productID)
	resp, err := client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int              `json:"code"`
		Data map[string]int64 `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	return out.Data[fmt.Sprintf("%d", productID)], nil
}
