package panel

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/atinyakov/GVMBot/internal/models"
)

// minListColumns is the number of cells a listing row needs to be kept:
// id, name, status, memory, cpu, disk.
const minListColumns = 6

var successKeywords = []string{"success", "created", "successfully"}

// Field patterns. Each is looked up independently on the visible text.
var (
	reVPSID    = regexp.MustCompile(`VPS ID:\s*([A-Za-z0-9_-]+)`)
	reUsername = regexp.MustCompile(`Username:\s*([^\s<]+)`)
	rePassword = regexp.MustCompile(`Password:\s*([^\s<]+)`)
	reSSHHost  = regexp.MustCompile(`SSH Host:\s*([A-Za-z0-9.:-]+)`)
	reSSHPort  = regexp.MustCompile(`SSH Port:\s*(\d+)`)
	reStatus   = regexp.MustCompile(`Status:\s*(\w+)`)
)

// IsSuccess reports whether body contains one of the panel's success keywords.
func IsSuccess(body string) bool {
	lower := strings.ToLower(body)
	for _, kw := range successKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ParseCreation extracts the labelled fields of a creation response.
// The ID is left empty when absent; every other missing field is set to
// models.NotAvailable and named in Missing.
func ParseCreation(body string) models.VPSRecord {
	text := visibleText(body)

	var rec models.VPSRecord
	rec.ID, _ = lookup(text, reVPSID)
	rec.Username = field(text, reUsername, "username", &rec.Missing)
	rec.Password = field(text, rePassword, "password", &rec.Missing)
	rec.SSHHost = field(text, reSSHHost, "ssh_host", &rec.Missing)
	rec.SSHPort = field(text, reSSHPort, "ssh_port", &rec.Missing)
	rec.Status = field(text, reStatus, "status", &rec.Missing)
	return rec
}

// ParseSSHInfo extracts host, port and, when present, the login user.
func ParseSSHInfo(body string) models.SSHInfo {
	text := visibleText(body)

	var missing []string
	info := models.SSHInfo{
		Host: field(text, reSSHHost, "ssh_host", &missing),
		Port: field(text, reSSHPort, "ssh_port", &missing),
	}
	info.Username, _ = lookup(text, reUsername)
	if info.Username == "" {
		info.Username = "root"
	}
	info.Command = sshCommand(info.Username, info.Host, info.Port)
	return info
}

// ParseListing reads the rows of the first table in body. The header row is
// skipped and rows with fewer than six cells are dropped. hasOwner reports
// whether the header named an owner column.
func ParseListing(body string) (rows []models.VPSSummary, hasOwner bool) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, false
	}
	table := findFirst(doc, atom.Table)
	if table == nil {
		return nil, false
	}

	trs := findAll(table, atom.Tr)
	if len(trs) == 0 {
		return nil, false
	}

	ownerCol := -1
	for i, th := range cells(trs[0], atom.Th, atom.Td) {
		h := strings.ToLower(nodeText(th))
		if h == "owner" || h == "user" {
			ownerCol = i
			break
		}
	}

	for _, tr := range trs[1:] {
		tds := cells(tr, atom.Td)
		if len(tds) < minListColumns {
			continue
		}
		row := models.VPSSummary{
			ID:     nodeText(tds[0]),
			Name:   nodeText(tds[1]),
			Status: nodeText(tds[2]),
			Memory: nodeText(tds[3]),
			CPU:    nodeText(tds[4]),
			Disk:   nodeText(tds[5]),
		}
		if ownerCol >= 0 && ownerCol < len(tds) {
			row.Owner = nodeText(tds[ownerCol])
		}
		rows = append(rows, row)
	}
	return rows, ownerCol >= 0
}

func sshCommand(user, host, port string) string {
	return "ssh " + user + "@" + host + " -p " + port
}

func lookup(text string, re *regexp.Regexp) (string, bool) {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func field(text string, re *regexp.Regexp, name string, missing *[]string) string {
	if v, ok := lookup(text, re); ok {
		return v
	}
	*missing = append(*missing, name)
	return models.NotAvailable
}

// visibleText flattens an HTML document to its text nodes separated by
// spaces. Plain text passes through unchanged apart from entity decoding.
func visibleText(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}

// findAll collects descendants of n with atom a, not descending into nested
// tables.
func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.DataAtom == a {
				out = append(out, c)
				continue
			}
			if c.DataAtom == atom.Table {
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func cells(tr *html.Node, atoms ...atom.Atom) []*html.Node {
	var out []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		for _, a := range atoms {
			if c.DataAtom == a {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
