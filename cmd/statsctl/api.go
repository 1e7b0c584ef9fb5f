package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxIDsPerRequest matches the batch endpoint's validation limit
const maxIDsPerRequest = 1000

var httpClient = &http.Client{Timeout: 10 * time.Second}

// postMatchIDs queues ids on the aggregator, splitting them across requests.
func postMatchIDs(ctx context.Context, apiURL, token string, ids []int64) error {
	endpoint := strings.TrimRight(apiURL, "/") + "/api/v1/stats/matches/batch"

	for start := 0; start < len(ids); start += maxIDsPerRequest {
		end := min(start+maxIDsPerRequest, len(ids))

		payload, err := json.Marshal(map[string][]int64{"match_ids": ids[start:end]})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Server-Token", token)

		resp, err := httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("aggregator answered %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
	}
	return nil
}
