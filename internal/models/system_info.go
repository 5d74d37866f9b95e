// Package models contains domain types for the ksar service.
package models

// InfoField names one SystemInfo attribute.
type InfoField string

const (
	FieldOSType     InfoField = "os_type"
	FieldHostname   InfoField = "hostname"
	FieldKernel     InfoField = "kernel"
	FieldCPUType    InfoField = "cpu_type"
	FieldOSVersion  InfoField = "os_version"
	FieldMacAddress InfoField = "mac_address"
	FieldMemory     InfoField = "memory"
	FieldNbDisk     InfoField = "nb_disk"
	FieldNbCPU      InfoField = "nb_cpu"
	FieldEnt        InfoField = "ent"
)

// InfoFields lists every SystemInfo attribute in output order.
var InfoFields = []InfoField{
	FieldOSType, FieldHostname, FieldKernel, FieldCPUType, FieldOSVersion,
	FieldMacAddress, FieldMemory, FieldNbDisk, FieldNbCPU, FieldEnt,
}

// SystemInfo describes the host a report was collected on.
// Every field is write-once: Set ignores a field that already holds a value.
type SystemInfo struct {
	OSType     *string `json:"os_type" msgpack:"os_type"`
	Hostname   *string `json:"hostname" msgpack:"hostname"`
	Kernel     *string `json:"kernel" msgpack:"kernel"`
	CPUType    *string `json:"cpu_type" msgpack:"cpu_type"`
	OSVersion  *string `json:"os_version" msgpack:"os_version"`
	MacAddress *string `json:"mac_address" msgpack:"mac_address"`
	Memory     *string `json:"memory" msgpack:"memory"`
	NbDisk     *string `json:"nb_disk" msgpack:"nb_disk"`
	NbCPU      *string `json:"nb_cpu" msgpack:"nb_cpu"`
	Ent        *string `json:"ent" msgpack:"ent"`
}

// Set stores value in field unless the field is already populated or value is empty.
// It reports whether the value was stored.
func (s *SystemInfo) Set(field InfoField, value string) bool {
	slot := s.slot(field)
	if slot == nil || *slot != nil || value == "" {
		return false
	}
	v := value
	*slot = &v
	return true
}

// Get returns the value of field, or "" when unset.
func (s *SystemInfo) Get(field InfoField) string {
	slot := s.slot(field)
	if slot == nil || *slot == nil {
		return ""
	}
	return **slot
}

// Populated returns the number of fields holding a value.
func (s *SystemInfo) Populated() int {
	n := 0
	for _, f := range InfoFields {
		if s.Get(f) != "" {
			n++
		}
	}
	return n
}

func (s *SystemInfo) slot(field InfoField) **string {
	switch field {
	case FieldOSType:
		return &s.OSType
	case FieldHostname:
		return &s.Hostname
	case FieldKernel:
		return &s.Kernel
	case FieldCPUType:
		return &s.CPUType
	case FieldOSVersion:
		return &s.OSVersion
	case FieldMacAddress:
		return &s.MacAddress
	case FieldMemory:
		return &s.Memory
	case FieldNbDisk:
		return &s.NbDisk
	case FieldNbCPU:
		return &s.NbCPU
	case FieldEnt:
		return &s.Ent
	}
	return nil
}
