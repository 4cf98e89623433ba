package ipc

import (
	"bytes"
	"context"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/endpoint"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/grant"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/domain/message"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/service"
	"github.com/GriffinCanCode/AgentOS/ipcore/internal/shared/errno"
)

// Provider runs nonblocking IPC and grant operations on behalf of a live process.
type Provider struct {
	kernel *kernel.Kernel
}

// NewProvider creates a new IPC provider
func NewProvider(k *kernel.Kernel) *Provider {
	return &Provider{kernel: k}
}

func param(name, typ, desc string, required bool) service.Parameter {
	return service.Parameter{Name: name, Type: typ, Description: desc, Required: required}
}

// Definition returns the service definition
func (p *Provider) Definition() service.Service {
	return service.Service{
		ID:          "ipc",
		Name:        "Kernel IPC",
		Description: "Send messages, notifications and grants between processes and copy memory through grants",
		Category:    service.CategoryIPC,
		Capabilities: []string{
			"send_message",
			"receive_message",
			"notify",
			"create_grant",
			"revoke_grant",
			"list_grants",
			"safecopy",
		},
		Tools: []service.Tool{
			{
				ID:          "ipc.send",
				Name:        "Send Message",
				Description: "Deliver a message if the destination is already waiting for it",
				Parameters: []service.Parameter{
					param("dest", "number", "Destination endpoint", true),
					param("type", "number", "Message type", false),
					param("data", "string", "Up to 56 bytes of payload", false),
				},
				Returns: "Success confirmation",
			},
			{
				ID:          "ipc.notify",
				Name:        "Notify",
				Description: "Post a notification to a process",
				Parameters:  []service.Parameter{param("dest", "number", "Destination endpoint", true)},
				Returns:     "Success confirmation",
			},
			{
				ID:          "ipc.receive",
				Name:        "Receive Message",
				Description: "Take a pending message without blocking",
				Parameters:  []service.Parameter{param("src", "number", "Source endpoint, any when omitted", false)},
				Returns:     "Source, type and payload of the message",
			},
			{
				ID:          "ipc.grant",
				Name:        "Create Grant",
				Description: "Grant another process access to a range of the caller's memory",
				Parameters: []service.Parameter{
					param("grantee", "number", "Endpoint allowed to use the grant", true),
					param("start", "number", "Start address", true),
					param("length", "number", "Length in bytes", true),
					param("access", "string", "r, w or rw", true),
				},
				Returns: "Grant ID (number)",
			},
			{
				ID:          "ipc.revoke",
				Name:        "Revoke Grant",
				Description: "Free one of the caller's grants",
				Parameters:  []service.Parameter{param("id", "number", "Grant ID", true)},
				Returns:     "Success confirmation",
			},
			{
				ID:          "ipc.grants",
				Name:        "List Grants",
				Description: "List the caller's grant table",
				Returns:     "Grants (array)",
			},
			{
				ID:          "ipc.safecopy",
				Name:        "Copy Through Grant",
				Description: "Copy granted memory into the caller at a local address and return it",
				Parameters: []service.Parameter{
					param("owner", "number", "Grant owner endpoint", true),
					param("id", "number", "Grant ID", true),
					param("offset", "number", "Offset into the granted range", false),
					param("local", "number", "Caller address receiving the bytes", true),
					param("length", "number", "Number of bytes", true),
				},
				Returns: "Data copied (string)",
			},
		},
	}
}

// Execute runs a tool as the caller's process.
func (p *Provider) Execute(ctx context.Context, toolID string, params map[string]any, caller *service.Caller) (*service.Result, error) {
	if caller == nil {
		return service.Failure(fmt.Errorf("no calling process: %w", errno.ErrBadSrcDst))
	}
	proc, err := p.kernel.Process(caller.Endpoint)
	if err != nil {
		return service.Failure(err)
	}
	if err := ctx.Err(); err != nil {
		return service.Failure(err)
	}

	switch toolID {
	case "ipc.send":
		return p.send(proc, params)
	case "ipc.notify":
		return p.notify(proc, params)
	case "ipc.receive":
		return p.receive(proc, params)
	case "ipc.grant":
		return p.grant(proc, params)
	case "ipc.revoke":
		return p.revoke(proc, params)
	case "ipc.grants":
		return p.grants(proc)
	case "ipc.safecopy":
		return p.safecopy(proc, params)
	default:
		return service.Failure(fmt.Errorf("unknown tool: %s: %w", toolID, errno.ErrInvalid))
	}
}

func (p *Provider) send(proc *kernel.Process, params map[string]any) (*service.Result, error) {
	dest, err := endpointParam(params, "dest")
	if err != nil {
		return service.Failure(err)
	}
	typ, _ := number(params, "type")

	var payload message.Payload = message.Empty{}
	if data, ok := params["data"].(string); ok && data != "" {
		if len(data) > message.PayloadSize {
			return service.Failure(fmt.Errorf("data exceeds %d bytes: %w", message.PayloadSize, errno.ErrInvalid))
		}
		var block message.U8
		copy(block[:], data)
		payload = block
	}

	if err := proc.SendNB(dest, message.New(message.Type(typ), payload)); err != nil {
		return service.Failure(err)
	}
	return &service.Result{
		Success: true,
		Data:    map[string]any{"dest": dest, "type": int64(typ)},
	}, nil
}

func (p *Provider) notify(proc *kernel.Process, params map[string]any) (*service.Result, error) {
	dest, err := endpointParam(params, "dest")
	if err != nil {
		return service.Failure(err)
	}
	if err := proc.Notify(dest); err != nil {
		return service.Failure(err)
	}
	return &service.Result{Success: true, Data: map[string]any{"dest": dest}}, nil
}

func (p *Provider) receive(proc *kernel.Process, params map[string]any) (*service.Result, error) {
	src := endpoint.Any
	if _, ok := params["src"]; ok {
		ep, err := endpointParam(params, "src")
		if err != nil {
			return service.Failure(err)
		}
		src = ep
	}

	msg, err := proc.ReceiveNB(src)
	if err != nil {
		return service.Failure(err)
	}
	data := map[string]any{
		"source":  msg.Source,
		"type":    int32(msg.Type),
		"kind":    message.KindName(msg.Kind()),
		"payload": msg.Payload,
	}
	if block, ok := msg.Payload.(message.U8); ok {
		data["data"] = string(bytes.TrimRight(block[:], "\x00"))
	}
	return &service.Result{Success: true, Data: data}, nil
}

func (p *Provider) grant(proc *kernel.Process, params map[string]any) (*service.Result, error) {
	grantee, err := endpointParam(params, "grantee")
	if err != nil {
		return service.Failure(err)
	}
	start, ok := number(params, "start")
	if !ok {
		return service.Failure(missing("start"))
	}
	length, ok := number(params, "length")
	if !ok {
		return service.Failure(missing("length"))
	}
	access, err := accessParam(params)
	if err != nil {
		return service.Failure(err)
	}

	gid, err := proc.GrantDirect(grantee, uint64(start), uint64(length), access)
	if err != nil {
		return service.Failure(err)
	}
	return &service.Result{
		Success: true,
		Data:    map[string]any{"id": int32(gid), "grantee": grantee, "access": access.String()},
	}, nil
}

func (p *Provider) revoke(proc *kernel.Process, params map[string]any) (*service.Result, error) {
	gid, ok := number(params, "id")
	if !ok {
		return service.Failure(missing("id"))
	}
	if err := proc.Revoke(grant.ID(gid)); err != nil {
		return service.Failure(err)
	}
	return &service.Result{Success: true, Data: map[string]any{"id": int32(gid)}}, nil
}

func (p *Provider) grants(proc *kernel.Process) (*service.Result, error) {
	entries, err := proc.Grants()
	if err != nil {
		return service.Failure(err)
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":      int32(e.ID),
			"grant":   e.Grant.String(),
			"grantee": e.Grant.Grantee,
			"enabled": e.Grant.Enabled,
		})
	}
	return &service.Result{Success: true, Data: map[string]any{"grants": out}}, nil
}

func (p *Provider) safecopy(proc *kernel.Process, params map[string]any) (*service.Result, error) {
	owner, err := endpointParam(params, "owner")
	if err != nil {
		return service.Failure(err)
	}
	gid, ok := number(params, "id")
	if !ok {
		return service.Failure(missing("id"))
	}
	local, ok := number(params, "local")
	if !ok {
		return service.Failure(missing("local"))
	}
	length, ok := number(params, "length")
	if !ok {
		return service.Failure(missing("length"))
	}
	offset, _ := number(params, "offset")

	if err := proc.SafecopyFrom(owner, grant.ID(gid), uint64(offset), uint64(local), uint64(length)); err != nil {
		return service.Failure(err)
	}
	data, err := proc.Read(uint64(local), uint64(length))
	if err != nil {
		return service.Failure(err)
	}
	return &service.Result{
		Success: true,
		Data:    map[string]any{"bytes": len(data), "data": string(data)},
	}, nil
}

// number reads a numeric parameter. JSON numbers arrive as float64.
func number(params map[string]any, name string) (float64, bool) {
	switch v := params[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func endpointParam(params map[string]any, name string) (endpoint.Endpoint, error) {
	v, ok := number(params, name)
	if !ok {
		return endpoint.None, missing(name)
	}
	return endpoint.Endpoint(int32(v)), nil
}

func accessParam(params map[string]any) (grant.Access, error) {
	switch params["access"] {
	case "r":
		return grant.Read, nil
	case "w":
		return grant.Write, nil
	case "rw":
		return grant.ReadWrite, nil
	}
	return 0, fmt.Errorf("access must be r, w or rw: %w", errno.ErrInvalid)
}

func missing(name string) error {
	return fmt.Errorf("%s is required: %w", name, errno.ErrInvalid)
}
