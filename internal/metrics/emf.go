// Package metrics emits CloudWatch Embedded Metrics Format (EMF) documents
// for the conversion pipeline. EMF metrics are written as one JSON line to
// stdout, where CloudWatch extracts them from the log stream — no API
// calls and no added invocation latency.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Namespace is the CloudWatch namespace for all pipeline metrics.
const Namespace = "DocPdfPipeline"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

// Invocation accumulates the metrics for one Lambda invocation. Not safe
// for concurrent use; create one per handler run and Flush at the end.
type Invocation struct {
	component  string
	caseID     string
	metrics    []metricDef
	values     map[string]float64
	properties map[string]any
	out        io.Writer
}

// ForCase starts an Invocation recorder for the given pipeline component
// ("worker", "merge", "partition", "reconcile") and case.
func ForCase(component, caseID string) *Invocation {
	return &Invocation{
		component:  component,
		caseID:     caseID,
		values:     make(map[string]float64),
		properties: make(map[string]any),
		out:        os.Stdout,
	}
}

// Count adds n to a count metric.
func (inv *Invocation) Count(name string, n int) *Invocation {
	return inv.metric(name, float64(n), UnitCount)
}

// Duration records an elapsed time metric in milliseconds.
func (inv *Invocation) Duration(name string, d time.Duration) *Invocation {
	return inv.metric(name, float64(d.Milliseconds()), UnitMilliseconds)
}

// Property attaches a searchable non-metric field (free in CloudWatch).
func (inv *Invocation) Property(key string, value any) *Invocation {
	inv.properties[key] = value
	return inv
}

func (inv *Invocation) metric(name string, v float64, unit string) *Invocation {
	if _, seen := inv.values[name]; !seen {
		inv.metrics = append(inv.metrics, metricDef{Name: name, Unit: unit})
	}
	inv.values[name] = v
	return inv
}

// Flush writes the EMF document as a single line. A recorder with no
// metrics emits nothing.
func (inv *Invocation) Flush() {
	if len(inv.metrics) == 0 {
		return
	}

	dims := [][]string{{"Component"}}
	doc := map[string]any{
		"_aws": map[string]any{
			"Timestamp": time.Now().UnixMilli(),
			"CloudWatchMetrics": []map[string]any{{
				"Namespace":  Namespace,
				"Dimensions": dims,
				"Metrics":    inv.metrics,
			}},
		},
		"Component": inv.component,
		"CaseId":    inv.caseID,
	}
	for k, v := range inv.values {
		doc[k] = v
	}
	for k, v := range inv.properties {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: marshal failed: %v\n", err)
		return
	}
	fmt.Fprintln(inv.out, string(data))
}
