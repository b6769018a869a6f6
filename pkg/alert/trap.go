package alert

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"k8s.io/klog/v2"
)

// DefaultTrapAddress is where traps are received unless configured otherwise
const DefaultTrapAddress = "0.0.0.0:162"

// trapTimeout bounds the processing of a single trap
const trapTimeout = 30 * time.Second

// TrapProcessor handles decoded traps
type TrapProcessor interface {
	Process(ctx context.Context, sourceHost, community string, trap map[string]string) error
}

// TrapReceiver listens for SNMP v1/v2c traps and hands their varbinds to a
// TrapProcessor
type TrapReceiver struct {
	addr      string
	processor TrapProcessor
	listener  *gosnmp.TrapListener
}

// NewTrapReceiver creates a receiver for addr
func NewTrapReceiver(addr string, processor TrapProcessor) *TrapReceiver {
	if addr == "" {
		addr = DefaultTrapAddress
	}
	r := &TrapReceiver{
		addr:      addr,
		processor: processor,
		listener:  gosnmp.NewTrapListener(),
	}
	r.listener.Params = &gosnmp.GoSNMP{
		Port:    161,
		Version: gosnmp.Version2c,
		Timeout: 5 * time.Second,
		Retries: 2,
	}
	r.listener.OnNewTrap = r.handle
	return r
}

// Listen receives traps until Close is called
func (r *TrapReceiver) Listen() error {
	klog.Infof("Listening for SNMP traps on %s", r.addr)
	if err := r.listener.Listen(r.addr); err != nil {
		return fmt.Errorf("trap listener on %s failed: %w", r.addr, err)
	}
	return nil
}

// Listening is closed or receives true once the socket is bound
func (r *TrapReceiver) Listening() <-chan bool {
	return r.listener.Listening()
}

// Close stops the listener
func (r *TrapReceiver) Close() {
	r.listener.Close()
}

func (r *TrapReceiver) handle(packet *gosnmp.SnmpPacket, addr *net.UDPAddr) {
	ctx, cancel := context.WithTimeout(context.Background(), trapTimeout)
	defer cancel()

	source := addr.IP.String()
	trap := Varbinds(packet.Variables)
	klog.V(4).Infof("Trap from %s with %d varbinds", source, len(trap))

	if err := r.processor.Process(ctx, source, packet.Community, trap); err != nil {
		klog.Warningf("Dropped trap from %s: %v", source, err)
	}
}

// Varbinds maps trap variables to their values keyed by OID without the
// leading dot
func Varbinds(vars []gosnmp.SnmpPDU) map[string]string {
	trap := make(map[string]string, len(vars))
	for _, v := range vars {
		trap[strings.TrimPrefix(v.Name, ".")] = pduString(v)
	}
	return trap
}

// pduString converts a PDU value to text
func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
