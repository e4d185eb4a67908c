package tools

import (
	"strconv"
	"strings"
)

// parseNmapOutput extracts open ports and service identifications from
// default nmap text output. Lines look like:
//
//	21/tcp  open  ftp     vsftpd 2.3.4
//	80/tcp  open  http    Apache httpd 2.4.18 ((Ubuntu))
//
// Anything that does not match is ignored; the raw output stays available in
// Result.Output.
func parseNmapOutput(out string) ([]int, []ServiceInfo) {
	var (
		ports    []int
		services []ServiceInfo
	)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "open" {
			continue
		}
		portProto := strings.SplitN(fields[0], "/", 2)
		port, err := strconv.Atoi(portProto[0])
		if err != nil {
			continue
		}
		ports = append(ports, port)

		if len(fields) >= 3 {
			svc := ServiceInfo{Port: port, Name: fields[2]}
			if len(fields) > 3 {
				svc.Version = strings.Join(fields[3:], " ")
			}
			services = append(services, svc)
		}
	}
	return ports, services
}
