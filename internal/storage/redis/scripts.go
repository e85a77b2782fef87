package redis

const (
	// replaceHashScript deletes the hash and writes every field pair in ARGV.
	replaceHashScript = `
local key = KEYS[1]

redis.call('DEL', key)
if #ARGV > 0 then
  redis.call('HSET', key, unpack(ARGV))
end

return 'OK'
`
)
