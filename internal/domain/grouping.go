package domain

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// OrdersResponse is the body of GET /api/pedidos/user. Current backends send
// the nested Companies map; older ones send a flat Orders list.
type OrdersResponse struct {
	Companies CompanyList `json:"empresas"`
	Orders    []Order     `json:"pedidos"`
}

// Grouped returns the company view for the response. A nested map wins over
// the flat list; the flat list is grouped under a single unnamed company.
func (r OrdersResponse) Grouped() []Company {
	if len(r.Companies) > 0 {
		return r.Companies
	}
	if len(r.Orders) > 0 {
		return []Company{{Requesters: GroupByRequester(r.Orders)}}
	}
	return nil
}

// CompanyList decodes the "empresas" object into a slice, preserving the
// key order of the document.
type CompanyList []Company

type wireCompany struct {
	Logo       string        `json:"logo"`
	Requesters RequesterList `json:"usuarios"`
}

// UnmarshalJSON walks the object keys in document order.
func (l *CompanyList) UnmarshalJSON(b []byte) error {
	out := CompanyList{}
	index := map[string]int{}
	err := walkObject(b, func(key string, raw json.RawMessage) error {
		var wc wireCompany
		if err := json.Unmarshal(raw, &wc); err != nil {
			return err
		}
		c := Company{Name: key, Logo: wc.Logo, Requesters: []RequesterGroup(wc.Requesters)}
		if i, dup := index[key]; dup {
			out[i] = c
			return nil
		}
		index[key] = len(out)
		out = append(out, c)
		return nil
	})
	if err != nil {
		return err
	}
	*l = out
	return nil
}

// RequesterList decodes the "usuarios" object (requester name to orders)
// into a slice, preserving key order.
type RequesterList []RequesterGroup

// UnmarshalJSON walks the object keys in document order.
func (l *RequesterList) UnmarshalJSON(b []byte) error {
	out := RequesterList{}
	index := map[string]int{}
	err := walkObject(b, func(key string, raw json.RawMessage) error {
		var orders []Order
		if err := json.Unmarshal(raw, &orders); err != nil {
			return err
		}
		if orders == nil {
			orders = []Order{}
		}
		g := RequesterGroup{Name: key, Orders: orders}
		if i, dup := index[key]; dup {
			out[i] = g
			return nil
		}
		index[key] = len(out)
		out = append(out, g)
		return nil
	})
	if err != nil {
		return err
	}
	*l = out
	return nil
}

// walkObject calls fn for every member of a JSON object in document order.
// null is treated as an empty object.
func walkObject(b []byte, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ErrShape
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return ErrShape
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

// GroupByRequester buckets a flat order list by "surname given-name", sorted
// by surname then given name using Spanish collation. The sort is stable so
// orders of one requester keep their response order.
func GroupByRequester(orders []Order) []RequesterGroup {
	sorted := append([]Order(nil), orders...)
	col := collate.New(language.Spanish)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := col.CompareString(sorted[i].RequesterSurname, sorted[j].RequesterSurname); c != 0 {
			return c < 0
		}
		return col.CompareString(sorted[i].RequesterGivenName, sorted[j].RequesterGivenName) < 0
	})

	var groups []RequesterGroup
	index := map[string]int{}
	for _, o := range sorted {
		name := strings.TrimSpace(o.RequesterSurname + " " + o.RequesterGivenName)
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, RequesterGroup{Name: name})
		}
		groups[i].Orders = append(groups[i].Orders, o)
	}
	return groups
}
