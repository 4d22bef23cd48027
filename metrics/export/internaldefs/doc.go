// Package internaldefs holds the metric names, help strings, and histogram
// bounds shared by the Prometheus and OTel exporters, so both expose
// identical series.
package internaldefs
