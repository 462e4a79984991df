package scanner

import (
	"sort"

	"localscan/internal/models"
)

var commonPorts = map[int]string{
	21:    "FTP",
	22:    "SSH",
	23:    "Telnet",
	25:    "SMTP",
	53:    "DNS",
	80:    "HTTP",
	110:   "POP3",
	143:   "IMAP",
	443:   "HTTPS",
	993:   "IMAPS",
	995:   "POP3S",
	3000:  "Node.js Dev Server",
	3306:  "MySQL",
	3389:  "RDP",
	5000:  "Flask Dev Server",
	5173:  "Vite Dev Server",
	5432:  "PostgreSQL",
	6379:  "Redis",
	8080:  "HTTP-Alt",
	8443:  "HTTPS-Alt",
	9200:  "Elasticsearch",
	27017: "MongoDB",
}

// CommonPorts returns well-known ports and their usual services, sorted by port
func CommonPorts() []models.CommonPort {
	ports := make([]models.CommonPort, 0, len(commonPorts))
	for port, service := range commonPorts {
		ports = append(ports, models.CommonPort{Port: port, Service: service})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Port < ports[j].Port })
	return ports
}
