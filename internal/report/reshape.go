package report

import (
	"encoding/json"
	"strings"
	"time"
)

type Row map[string]any

// Definition describes one detailed report: which entity to query, which
// fields to request, and how to flatten each nested result into a Row.
type Definition struct {
	Name      string
	Entity    string
	DateField string
	Fields    []string
	OrderBy   string
	Flatten   func(map[string]any) Row
}

var Submissions = Definition{
	Name:      "submissions",
	Entity:    "JobSubmission",
	DateField: "dateAdded",
	Fields: []string{
		"id", "status", "dateAdded", "source",
		"candidate(id,firstName,lastName,email)",
		"jobOrder(id,title,clientCorporation(name))",
		"sendingUser(firstName,lastName)",
	},
	OrderBy: "-dateAdded",
	Flatten: func(m map[string]any) Row {
		jobOrder := object(m, "jobOrder")
		return Row{
			"id":             m["id"],
			"status":         text(m, "status"),
			"date_added":     millisTime(m["dateAdded"]),
			"source":         text(m, "source"),
			"candidate_id":   object(m, "candidate")["id"],
			"candidate_name": fullName(object(m, "candidate")),
			"email":          text(object(m, "candidate"), "email"),
			"job_id":         jobOrder["id"],
			"job_title":      text(jobOrder, "title"),
			"client":         text(object(jobOrder, "clientCorporation"), "name"),
			"recruiter":      fullName(object(m, "sendingUser")),
		}
	},
}

var Placements = Definition{
	Name:      "placements",
	Entity:    "Placement",
	DateField: "dateAdded",
	Fields: []string{
		"id", "status", "dateAdded", "dateBegin", "dateEnd",
		"salary", "payRate", "clientBillRate", "employmentType",
		"candidate(id,firstName,lastName)",
		"jobOrder(id,title,clientCorporation(name))",
	},
	OrderBy: "-dateAdded",
	Flatten: func(m map[string]any) Row {
		jobOrder := object(m, "jobOrder")
		return Row{
			"id":               m["id"],
			"status":           text(m, "status"),
			"date_added":       millisTime(m["dateAdded"]),
			"date_begin":       millisTime(m["dateBegin"]),
			"date_end":         millisTime(m["dateEnd"]),
			"salary":           m["salary"],
			"pay_rate":         m["payRate"],
			"client_bill_rate": m["clientBillRate"],
			"employment_type":  text(m, "employmentType"),
			"candidate_name":   fullName(object(m, "candidate")),
			"job_title":        text(jobOrder, "title"),
			"client":           text(object(jobOrder, "clientCorporation"), "name"),
		}
	},
}

var Jobs = Definition{
	Name:      "jobs",
	Entity:    "JobOrder",
	DateField: "dateAdded",
	Fields: []string{
		"id", "title", "status", "isOpen", "dateAdded", "employmentType", "numOpenings",
		"owner(firstName,lastName)",
		"clientCorporation(name)",
	},
	OrderBy: "-dateAdded",
	Flatten: flattenJob,
}

// OpenJobFields mirrors the job feed columns: id, title, added, type, client.
var OpenJobFields = []string{"id", "title", "dateAdded", "isOpen", "employmentType", "status", "clientCorporation(name)", "owner(firstName,lastName)"}

func flattenJob(m map[string]any) Row {
	return Row{
		"id":              m["id"],
		"title":           text(m, "title"),
		"status":          text(m, "status"),
		"is_open":         m["isOpen"],
		"date_added":      millisTime(m["dateAdded"]),
		"employment_type": text(m, "employmentType"),
		"openings":        m["numOpenings"],
		"owner":           fullName(object(m, "owner")),
		"client":          text(object(m, "clientCorporation"), "name"),
	}
}

func Flatten(def Definition, records []map[string]any) []Row {
	rows := make([]Row, 0, len(records))
	for _, record := range records {
		rows = append(rows, def.Flatten(record))
	}
	return rows
}

// Summarize counts rows by status; rows without one are counted as "Unknown".
func Summarize(rows []Row) map[string]int {
	summary := make(map[string]int)
	for _, row := range rows {
		status, _ := row["status"].(string)
		if status == "" {
			status = "Unknown"
		}
		summary[status]++
	}
	return summary
}

func object(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	nested, _ := m[key].(map[string]any)
	return nested
}

func text(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func fullName(m map[string]any) string {
	return strings.TrimSpace(text(m, "firstName") + " " + text(m, "lastName"))
}

// millisTime renders an epoch-millisecond value as RFC 3339 UTC, or nil.
func millisTime(value any) any {
	var millis int64
	switch v := value.(type) {
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return nil
			}
			parsed = int64(f)
		}
		millis = parsed
	case float64:
		millis = int64(v)
	case int64:
		millis = v
	default:
		return nil
	}
	if millis == 0 {
		return nil
	}
	return time.UnixMilli(millis).UTC().Format(time.RFC3339)
}
