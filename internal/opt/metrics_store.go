package opt

import "sync"

type key struct {
    Tenant   string
    WaveDate string
    Algo     string
}

var (
    mu    sync.Mutex
    store = map[key]Metrics{}
)

func RecordMetrics(tenant, waveDate, algo string, m Metrics) {
    mu.Lock()
    store[key{Tenant: tenant, WaveDate: waveDate, Algo: algo}] = m
    mu.Unlock()
}

func GetMetrics(tenant, waveDate string) map[string]Metrics {
    mu.Lock()
    defer mu.Unlock()
    out := map[string]Metrics{}
    for k, v := range store {
        if k.Tenant == tenant && k.WaveDate == waveDate {
            out[k.Algo] = v
        }
    }
    return out
}
