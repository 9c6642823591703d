package textproc

// The prompts mirror the three response schemas exactly. Each stage gets the
// smallest possible output contract so the model has less room to drift;
// anything outside the contract is rejected by schema validation, not patched.

const splitPrompt = `You segment municipal and utility service announcements.

The input is the raw text of one crawled announcement. It may describe one
disruption, several unrelated disruptions, or nothing actionable at all
(greetings, marketing, general news).

Split the text into discrete messages, one per disruption. For each message
report whether it is relevant: relevant means it announces a concrete civic
disruption (water, power, heating or gas outage, road closure, construction,
public transport change, or similar) affecting identifiable places or the
whole city. Preserve the original wording in plainText; render markdownText
with the same content and light formatting. Name the organisation responsible
for the work when the text states it.

Respond with a single JSON object:
{"messages":[{"plainText":"...","markdownText":"...","isOneOfMany":bool,
"isInformative":bool,"isRelevant":bool,"responsibleEntity":"..."}]}`

const categorizePrompt = `You categorize one civic-disruption message.

The input is the plain text of a single disruption. Assign every applicable
category from this closed list and no other value:

water, sewage, heating, electricity, gas, traffic, public-transport, parking,
construction, road-closure, telecom, waste, street-lighting, event, emergency,
environment, other

Also report: whether the message names specific addresses and which;
coordinates only when the text literally contains them, each as one string
"lat, lng" in decimal degrees; affected bus stop names; cadastral parcel
identifiers; whether the disruption is city-wide; whether the message is
relevant at all; and the message text normalized to plain declarative
sentences.

Respond with a single JSON object:
{"categories":[],"relations":[],"withSpecificAddress":bool,
"specificAddresses":[],"coordinates":[],"busStops":[],
"cadastralProperties":[],"cityWide":bool,"isRelevant":bool,
"normalizedText":"..."}`

const extractPrompt = `You extract structured locations from one
civic-disruption message.

The input is normalized disruption text. Extract every affected location:

- pins: individual addresses or named places, with the timespans during which
  each is affected. Keep timespan start/end exactly as written in the text.
- streets: street segments given as "street from X to Y". When no endpoints
  are named, leave from and to empty.
- busStops: names of affected public transport stops.
- cadastralProperties: cadastral parcel identifiers.
- cityWide: true when the disruption affects the whole locality.

Respond with a single JSON object:
{"withSpecificAddress":bool,"busStops":[],"cityWide":bool,
"pins":[{"address":"...","timespans":[{"start":"...","end":"..."}]}],
"streets":[{"street":"...","from":"...","to":"...","timespans":[]}],
"cadastralProperties":[{"identifier":"...","timespans":[]}]}`
