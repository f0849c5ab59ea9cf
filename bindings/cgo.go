// Command bindings builds a C shared library (go build -buildmode=c-shared)
// so notebooks in other languages can drive a catalog session in process.
// Every call returns a JSON protocol response that the caller releases with
// commitcatalog_free.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"encoding/json"
	"sync"
	"unsafe"

	CommitCatalog "github.com/nickyhof/CommitCatalog"
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/db"
	"github.com/nickyhof/CommitCatalog/internal/protocol"
	"github.com/nickyhof/CommitCatalog/ps"
)

var bindingIdentity = core.Identity{
	Name:  "CommitCatalog Notebook",
	Email: "notebook@commitcatalog.local",
}

var (
	mu         sync.Mutex
	sessions   = make(map[int]*db.Session)
	nextHandle = 1
)

func open(persistence *ps.Persistence, err error) C.int {
	if err != nil {
		return -1
	}
	instance, err := CommitCatalog.Open(persistence)
	if err != nil {
		return -1
	}

	mu.Lock()
	defer mu.Unlock()
	handle := nextHandle
	nextHandle++
	sessions[handle] = instance.Session(bindingIdentity)
	return C.int(handle)
}

//export commitcatalog_open_memory
func commitcatalog_open_memory() C.int {
	return open(ps.NewMemoryPersistence())
}

//export commitcatalog_open_file
func commitcatalog_open_file(path *C.char) C.int {
	return open(ps.NewFilePersistence(C.GoString(path)))
}

//export commitcatalog_close
func commitcatalog_close(handle C.int) {
	mu.Lock()
	defer mu.Unlock()
	delete(sessions, int(handle))
}

//export commitcatalog_set_identity
func commitcatalog_set_identity(handle C.int, name, email *C.char) C.int {
	session, ok := lookup(handle)
	if !ok {
		return -1
	}
	session.SetIdentity(core.Identity{Name: C.GoString(name), Email: C.GoString(email)})
	return 0
}

//export commitcatalog_execute
func commitcatalog_execute(handle C.int, query *C.char) *C.char {
	session, ok := lookup(handle)
	if !ok {
		return encode(protocol.Response{Success: false, Error: "invalid handle"})
	}
	return encode(protocol.FromResult(session.Execute(context.Background(), C.GoString(query))))
}

//export commitcatalog_free
func commitcatalog_free(ptr *C.char) {
	C.free(unsafe.Pointer(ptr))
}

func lookup(handle C.int) (*db.Session, bool) {
	mu.Lock()
	defer mu.Unlock()
	session, ok := sessions[int(handle)]
	return session, ok
}

func encode(resp protocol.Response) *C.char {
	data, _ := json.Marshal(resp)
	return C.CString(string(data))
}

func main() {}
