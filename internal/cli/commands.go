package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/edvin/graphfleet/internal/model"
)

// InstancesList prints the fleet, optionally filtered by region, tier
// and status.
func InstancesList(c *Client, region, tier, status string) error {
	path := "/api/v1/instances"
	q := url.Values{}
	if region != "" {
		q.Set("region", region)
	}
	if tier != "" {
		q.Set("tier", tier)
	}
	if status != "" {
		q.Set("status", status)
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.Get(path)
	if err != nil {
		return err
	}

	var instances []model.Instance
	if err := json.Unmarshal(resp.Body, &instances); err != nil {
		return fmt.Errorf("decode instances: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTIER\tREGION\tSTATUS\tDATABASES\tCAPACITY\tLAST HEALTH")
	for _, in := range instances {
		lastHealth := "-"
		if in.LastHealthCheck != nil {
			lastHealth = in.LastHealthCheck.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%.0f%%\t%s\n",
			in.ID, in.NodeType, in.Tier, in.Region, in.Status,
			in.DatabaseCount, in.MaxDatabases, in.AvailableCapacityPct, lastHealth)
	}
	return w.Flush()
}

// InstanceGet prints one instance as JSON.
func InstanceGet(c *Client, instanceID string) error {
	resp, err := c.Get("/api/v1/instances/" + instanceID)
	if err != nil {
		return err
	}
	return printJSON(resp.Body)
}

// InstanceDrain asks the fleet API to start decommissioning an instance.
func InstanceDrain(c *Client, instanceID string) error {
	resp, err := c.Post("/api/v1/instances/"+instanceID+"/drain", nil)
	if err != nil {
		return err
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return fmt.Errorf("decode drain response: %w", err)
	}
	fmt.Printf("instance %s: %s\n", instanceID, result.Status)
	return nil
}

// GraphsList prints graph assignments for an entity or an instance.
func GraphsList(c *Client, entityID, instanceID string) error {
	if entityID == "" && instanceID == "" {
		return fmt.Errorf("either -entity or -instance is required")
	}

	q := url.Values{}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if instanceID != "" {
		q.Set("instance_id", instanceID)
	}

	resp, err := c.Get("/api/v1/graphs?" + q.Encode())
	if err != nil {
		return err
	}

	var assignments []model.GraphAssignment
	if err := json.Unmarshal(resp.Body, &assignments); err != nil {
		return fmt.Errorf("decode graph assignments: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GRAPH\tENTITY\tINSTANCE\tSTATUS\tREGION\tUPDATED")
	for _, a := range assignments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.GraphID, a.EntityID, a.InstanceID, a.Status, a.CurrentRegion,
			a.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return w.Flush()
}

// GraphCreate provisions a new tenant graph and prints the assignment.
func GraphCreate(c *Client, graphID, entityID, tier, region string) error {
	body := map[string]any{
		"entity_id": entityID,
		"region":    region,
	}
	if graphID != "" {
		body["graph_id"] = graphID
	}
	if tier != "" {
		body["tier"] = tier
	}

	resp, err := c.Post("/api/v1/graphs", body)
	if err != nil {
		return err
	}
	return printJSON(resp.Body)
}

// GraphQuery runs a query through the gateway and prints the result as
// a table.
func GraphQuery(c *Client, graphID, query string, write bool, tier string) error {
	body := map[string]any{
		"query": query,
		"write": write,
	}
	if tier != "" {
		body["tier"] = tier
	}

	resp, err := c.Post("/api/v1/graphs/"+graphID+"/query", body)
	if err != nil {
		return err
	}

	var result model.QueryResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return fmt.Errorf("decode query result: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, col := range result.Columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, col)
	}
	fmt.Fprintln(w)
	for _, row := range result.Rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprintf(w, "%v", cell)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// GraphDelete removes a graph assignment.
func GraphDelete(c *Client, graphID string) error {
	if _, err := c.Delete("/api/v1/graphs/" + graphID); err != nil {
		return err
	}
	fmt.Printf("graph %s deleted\n", graphID)
	return nil
}

func printJSON(raw json.RawMessage) error {
	var buf any
	if err := json.Unmarshal(raw, &buf); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
