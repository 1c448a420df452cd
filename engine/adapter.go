// Package engine is the thin adapter over the host's kernel filter
// management API. All kernel calls route through this package; higher
// layers never touch a raw nftables handle.
package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"netguardd/compiler"
	cerrors "netguardd/errors"
)

// ExistingFilter is one installed, kernel-visible filter as enumerated
// from the service's sublayer.
type ExistingFilter struct {
	FilterKey   string
	RuntimeID   uint64
	DisplayName string
}

// Adapter is the capability set the reconciler and lifecycle orchestrator
// are driven against. Any implementation satisfying this interface — the
// real nftables-backed one or a test fake — is substitutable, in place of
// interface-based mocking frameworks.
type Adapter interface {
	ProviderExists(ctx context.Context) (bool, error)
	ProviderAdd(ctx context.Context) error
	ProviderDelete(ctx context.Context) error

	SublayerExists(ctx context.Context) (bool, error)
	SublayerAdd(ctx context.Context) error
	SublayerDelete(ctx context.Context) error

	EnumerateFilters(ctx context.Context) ([]ExistingFilter, error)
	AddFilter(ctx context.Context, f compiler.CompiledFilter) (uint64, error)
	DeleteFilterByKey(ctx context.Context, filterKey string) error
	FilterExists(ctx context.Context, filterKey string) (bool, error)

	// Flush commits every pending AddFilter/DeleteFilterByKey/Sublayer/
	// Provider call issued since the last Flush, as one kernel-atomic
	// batch. Begin/Commit/Abort in package txn wrap this.
	Flush() error
}

// ProviderName is the tagged identity under which all kernel objects
// created by netguardd are registered (invariant I1).
const ProviderName = "netguard"

// SublayerName is the priority-scoped chain all filters are installed
// into, so a bulk enumerate/delete is scoped to exactly our rules.
const SublayerName = "netguard-rules"

// NFTAdapter is the Linux realization of Adapter, backed by nftables:
// provider = table, sublayer = chain, filter = rule, transaction = batch
// flush.
type NFTAdapter struct {
	conn  *nftables.Conn
	table *nftables.Table
	chain *nftables.Chain
}

// OpenEngine opens a scoped nftables session. The caller is responsible
// for treating the returned adapter's lifetime as the engine-handle
// lifetime described by the filter-platform adapter contract.
func OpenEngine() (*NFTAdapter, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.KernelError, "open engine")
	}
	return &NFTAdapter{conn: conn}, nil
}

// Close does nothing and always returns nil: the adapter holds no resource
// of its own to release. Calling it more than once is harmless.
func (a *NFTAdapter) Close() error {
	return nil
}

func (a *NFTAdapter) ProviderExists(ctx context.Context) (bool, error) {
	tables, err := a.conn.ListTables()
	if err != nil {
		return false, translateKernelError(err, "list tables")
	}
	for _, t := range tables {
		if t.Name == ProviderName && t.Family == nftables.TableFamilyIPv4 {
			a.table = t
			return true, nil
		}
	}
	return false, nil
}

func (a *NFTAdapter) ProviderAdd(ctx context.Context) error {
	if ok, err := a.ProviderExists(ctx); err != nil {
		return err
	} else if ok {
		return nil // idempotent: ALREADY_EXISTS is success
	}
	a.table = a.conn.AddTable(&nftables.Table{
		Name:   ProviderName,
		Family: nftables.TableFamilyIPv4,
	})
	return nil
}

func (a *NFTAdapter) ProviderDelete(ctx context.Context) error {
	ok, err := a.ProviderExists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil // idempotent: NOT_FOUND is success
	}
	a.conn.DelTable(a.table)
	a.table = nil
	a.chain = nil
	return nil
}

func (a *NFTAdapter) SublayerExists(ctx context.Context) (bool, error) {
	if a.table == nil {
		if ok, err := a.ProviderExists(ctx); err != nil || !ok {
			return false, err
		}
	}
	chains, err := a.conn.ListChains()
	if err != nil {
		return false, translateKernelError(err, "list chains")
	}
	for _, c := range chains {
		if c.Table != nil && c.Table.Name == a.table.Name && c.Name == SublayerName {
			a.chain = c
			return true, nil
		}
	}
	return false, nil
}

func (a *NFTAdapter) SublayerAdd(ctx context.Context) error {
	if ok, err := a.SublayerExists(ctx); err != nil {
		return err
	} else if ok {
		return nil
	}

	policy := nftables.ChainPolicyAccept
	a.chain = a.conn.AddChain(&nftables.Chain{
		Name:     SublayerName,
		Table:    a.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})
	return nil
}

func (a *NFTAdapter) SublayerDelete(ctx context.Context) error {
	ok, err := a.SublayerExists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	existing, err := a.EnumerateFilters(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return cerrors.ErrSublayerInUse
	}

	a.conn.DelChain(a.chain)
	a.chain = nil
	return nil
}

func (a *NFTAdapter) EnumerateFilters(ctx context.Context) ([]ExistingFilter, error) {
	if a.chain == nil {
		if ok, err := a.SublayerExists(ctx); err != nil || !ok {
			return nil, err
		}
	}

	rules, err := a.conn.GetRules(a.table, a.chain)
	if err != nil {
		return nil, translateKernelError(err, "enumerate filters")
	}

	out := make([]ExistingFilter, 0, len(rules))
	for _, r := range rules {
		key := string(r.UserData)
		if key == "" {
			continue // foreign rule without our tag: never touched (I1)
		}
		out = append(out, ExistingFilter{
			FilterKey:   key,
			RuntimeID:   r.Handle,
			DisplayName: key,
		})
	}
	return out, nil
}

func (a *NFTAdapter) AddFilter(ctx context.Context, f compiler.CompiledFilter) (uint64, error) {
	if a.chain == nil {
		if err := a.SublayerAdd(ctx); err != nil {
			return 0, err
		}
	}

	rule := &nftables.Rule{
		Table:    a.table,
		Chain:    a.chain,
		UserData: []byte(f.FilterKey),
		Exprs:    buildExprs(f),
	}
	added := a.conn.AddRule(rule)
	return added.Handle, nil
}

func (a *NFTAdapter) DeleteFilterByKey(ctx context.Context, filterKey string) error {
	rules, err := a.conn.GetRules(a.table, a.chain)
	if err != nil {
		return translateKernelError(err, "delete filter")
	}
	for _, r := range rules {
		if string(r.UserData) == filterKey {
			return a.conn.DelRule(r)
		}
	}
	return nil // idempotent: NOT_FOUND is success
}

func (a *NFTAdapter) FilterExists(ctx context.Context, filterKey string) (bool, error) {
	existing, err := a.EnumerateFilters(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range existing {
		if f.FilterKey == filterKey {
			return true, nil
		}
	}
	return false, nil
}

func (a *NFTAdapter) Flush() error {
	if err := a.conn.Flush(); err != nil {
		return translateKernelError(err, "flush")
	}
	return nil
}

// buildExprs projects a CompiledFilter's match criteria into nftables
// match expressions: protocol meta match, destination address/mask
// payload match, destination port payload match (when present), and a
// terminating verdict.
func buildExprs(f compiler.CompiledFilter) []expr.Any {
	var exprs []expr.Any

	var l4proto byte
	switch f.Protocol {
	case "udp":
		l4proto = unix.IPPROTO_UDP
	default:
		l4proto = unix.IPPROTO_TCP
	}
	exprs = append(exprs,
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{l4proto}},
	)

	if f.RemoteMask != 0 {
		ipBytes := make([]byte, 4)
		maskBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(ipBytes, f.RemoteIP&f.RemoteMask)
		binary.BigEndian.PutUint32(maskBytes, f.RemoteMask)

		exprs = append(exprs,
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseNetworkHeader, Offset: 16, Len: 4},
			&expr.Bitwise{SourceRegister: 1, DestRegister: 1, Len: 4, Mask: maskBytes, Xor: make([]byte, 4)},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ipBytes},
		)
	}

	if f.HasPorts {
		exprs = append(exprs,
			&expr.Payload{DestRegister: 1, Base: expr.PayloadBaseTransportHeader, Offset: 2, Len: 2},
		)
		if f.PortEnd != f.PortStart {
			startBytes := make([]byte, 2)
			endBytes := make([]byte, 2)
			binary.BigEndian.PutUint16(startBytes, uint16(f.PortStart))
			binary.BigEndian.PutUint16(endBytes, uint16(f.PortEnd))
			exprs = append(exprs,
				&expr.Cmp{Op: expr.CmpOpGte, Register: 1, Data: startBytes},
				&expr.Cmp{Op: expr.CmpOpLte, Register: 1, Data: endBytes},
			)
		} else {
			portBytes := make([]byte, 2)
			binary.BigEndian.PutUint16(portBytes, uint16(f.PortStart))
			exprs = append(exprs, &expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: portBytes})
		}
	}

	if f.Action == "allow" {
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictAccept})
	} else {
		exprs = append(exprs, &expr.Verdict{Kind: expr.VerdictDrop})
	}

	return exprs
}

// translateKernelError normalizes the several raw error-code variants
// the kernel uses for "not found" and "already exists" into one stable
// tag each (spec.md §9: both PROVIDER/SUBLAYER/FILTER not-found variants
// map to NotFound).
func translateKernelError(err error, op string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, unix.ENOENT):
		return cerrors.Wrap(err, cerrors.NotFound, op)
	case errors.Is(err, unix.EEXIST):
		return cerrors.Wrap(err, cerrors.AlreadyExists, op)
	case errors.Is(err, unix.EBUSY):
		return cerrors.Wrap(err, cerrors.InUse, op)
	default:
		return cerrors.WrapWithDetail(err, cerrors.KernelError, op, fmt.Sprintf("0x%x", errno(err)))
	}
}

func errno(err error) uintptr {
	var e unix.Errno
	if errors.As(err, &e) {
		return uintptr(e)
	}
	return 0
}
